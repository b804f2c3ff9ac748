// Package id issues the snowflake identifiers behind every row the triage
// service creates: users, action items, source messages, tracked issues,
// follow-ups and activity entries. Ids are time-ordered, so "lowest id
// survives" in an identity merge means the oldest record wins.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node ids per binary. Each process generates from its own sequence, so the
// server and the sweeper never collide.
const (
	NodeServer  int64 = 1
	NodeSweeper int64 = 2
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init binds this process to a generator node. Only the first call takes
// effect; later calls are no-ops so shared test setup can call it freely.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns the next id on this process's node.
func New() int64 {
	return node.Generate().Int64()
}
