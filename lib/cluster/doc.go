// Package cluster is the boundary to multi node routing. It answers two
// questions for the command layer: does this process own a key, and if not,
// where should the client go instead.
//
// Keys are hashed with CRC16/XMODEM into 16384 slots. A hash tag ("{user1}.a")
// limits hashing to the text between the first braces. The SlotMap assigns slot
// ranges to node addresses and is configured statically; membership changes and
// slot migration are not handled here.
package cluster
