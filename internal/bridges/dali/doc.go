// Package dali implements the DALI protocol bridge for Gray Logic.
//
// This package provides connectivity to a DALI lighting bus through a
// serial/IP gateway. It covers two concerns:
//
//   - A typed command channel (GatewayBus) exposing the DALI special
//     commands used for commissioning (INITIALISE, RANDOMISE, COMPARE,
//     WITHDRAW, search address writes, PROGRAM/VERIFY SHORT ADDRESS) and the
//     arc power commands used for everyday control.
//   - An MQTT bridge (Bridge) that forwards on/off and brightness commands
//     for commissioned lights and groups, keeping a last-known level cache.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  gateway   ┌─────────┐
//	│  MQTT clients   │   MQTT   │   DALI Bridge   │◄──────────►│ DALI bus│
//	│ (home, panels)  │◄────────►│   (this pkg)    │  TCP/unix  └─────────┘
//	└─────────────────┘          └─────────────────┘
//
// # Addressing
//
// DALI control gear is addressed by a 6-bit short address (0-63) or a 4-bit
// group (0-15). Uncommissioned gear has no short address; it is found by the
// commissioning package using a 24-bit random address and the COMPARE
// arbitration primitive.
//
// # Wire format
//
// Forward frames follow IEC 62386-102 (address byte + opcode/data byte).
// The gateway framing is described in gateway.go.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. The gateway serialises
// requests: exactly one forward frame is in flight at a time.
package dali
