// Package puf emulates delay-based physically unclonable functions.
//
// A device is a chain of stages. Each stage holds two multiplexers and each
// multiplexer two gates whose nominal delays are drawn once, at manufacture,
// from a production distribution. A challenge selects, stage by stage, which
// gates two racing signals traverse; the response bit says which signal
// arrived last. Measurement noise is added to every gate sample and a small
// sensitivity offset breaks near-ties at random, which is what makes a
// response unreliable when the two paths are almost balanced.
//
// Three architectures are provided: Arbiter (the classic multiplexer chain,
// where a 1 bit crosses the signals), Loop (the challenge raced against its
// complement on the same chain) and Xor (k independent chains whose
// responses are combined).
package puf
