// Package dispatch hands delivered answers to the downstream consumer of
// each target (task manager, librarian, trainer). Transports are fire and
// forget from the cycle's point of view; consumers drain them separately.
package dispatch
