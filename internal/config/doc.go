// Package config defines the format-agnostic configuration model for
// measures and instrument profiles, along with the Loader and Writer
// interfaces implemented by concrete formats such as HCL.
//
// Task and tool parameters are kept as cty values so that they survive a
// load/save round trip unchanged and can be decoded into typed parameter
// structs with DecodeAttributes.
package config
