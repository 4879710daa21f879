// Package commissioning assigns short addresses to uncommissioned DALI
// control gear.
//
// A run follows the standard DALI addressing procedure:
//
//  1. Scan all 64 short addresses with QUERY CONTROL GEAR PRESENT to learn
//     which are taken. The remaining addresses form the allocation pool.
//  2. Put unaddressed gear into the initialisation state and let each
//     device pick a 24-bit random address (TERMINATE, INITIALISE,
//     RANDOMISE, then a fixed settle delay).
//  3. Find the lowest random address with a binary search driven by
//     COMPARE, withdraw that device, bind it to the lowest free short
//     address, and repeat until COMPARE finds nobody.
//  4. Issue TERMINATE on every exit path.
//
// # Components
//
//   - Scanner: builds the set of used short addresses.
//   - Initiator: arms unaddressed gear for arbitration.
//   - Discoverer: finds and withdraws the lowest random address in a range.
//   - Allocator: programs and verifies one short address.
//   - Commissioner: runs the phases in order and owns the result.
//
// All components talk to the bus through the Bus interface, implemented by
// dali.GatewayBus.
//
// # Concurrency
//
// One Commissioner owns one bus. Run is not reentrant: a second call while a
// run is in progress fails with ErrRunInProgress. Run state lives in the
// call, never in package variables.
package commissioning
