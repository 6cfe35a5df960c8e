package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/polyedge/updown/types"
)

func TestNextMidnightStaysInLocalZone(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, zone)

	next := nextMidnight(at)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, zone), next)
	assert.Equal(t, zone, next.Location())

	// a zone ahead of UTC rolls on its own calendar day, not UTC's
	tokyo := time.FixedZone("UTC+9", 9*3600)
	at = time.Date(2026, 3, 1, 1, 0, 0, 0, tokyo)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, tokyo), nextMidnight(at))
}

func TestMarketTokensFlattensPairs(t *testing.T) {
	tokens := marketTokens([]types.Market{
		{ID: "0xa", UpToken: "tok-up", DownToken: "tok-down"},
		{ID: "0xb", UpToken: "tok-up-2", DownToken: "tok-down-2"},
	})
	assert.Equal(t, []string{"tok-up", "tok-down", "tok-up-2", "tok-down-2"}, tokens)
}
