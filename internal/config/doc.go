// Package config implements the configuration layer for the signal generator.
//
// It holds three kinds of configuration:
//   - Config: the service configuration (radio defaults, stream sizing, server
//     timing, paths), built from baseline values, an optional YAML file and
//     SIGGEN_* environment overrides.
//   - CycleConfig: the burst/pause/loop snapshot read by the transmission
//     controller on every toggle.
//   - LastConfig: the line-oriented "last config" file shared with the
//     operator tooling (waveform path, cyclic flag, burst and pause seconds).
package config
