// Package protocol implements the flight recorder's binary record format.
// It covers header word parsing, the measurement type tags, the payload decoders
// and the version-keyed dispatch table that selects between them.
package protocol
