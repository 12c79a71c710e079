// Package mqtt forwards seqthink trace events to an MQTT broker and
// keeps a small set of retained state topics current.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a birth message ("online") to the
// availability topic; a will message moves that topic to "offline" on
// unexpected disconnects. Topics, under the configured prefix:
//
//	<prefix>/availability        online | offline (retained)
//	<prefix>/events/<kind>       one JSON event per message
//	<prefix>/state/<entity>      history_length, branches, sessions,
//	                             uptime, version (retained)
package mqtt
