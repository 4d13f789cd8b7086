// Package contracts provides the packet types and wire shapes shared by every recordbus component.
//
// This package defines:
//   - Packet: the interface every request and reply packet implements
//   - BasePacket: the embeddable header carrying type, identity, correlation and status
//   - Status: the reply-status classification carried on every packet
//   - Envelope: the outer wire object used on the request leg
//
// Packets are plain structs embedding BasePacket, so they serialize with encoding/json
// and can be decoded polymorphically by their packetType tag.
package contracts
