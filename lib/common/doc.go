// Package common provides the configuration and logging shared by the
// commands of this module.
//
// Key Components:
//
//   - Config: Parameters of a simulated event loop (slots, events, conditions
//     update interval, output options) with validation and a formatted report.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger facade. Every package of this module gets its logger through
//     logger.GetLogger("<pkg>"), InitLoggers installs the factory and sets
//     the level of all of them.
package common
