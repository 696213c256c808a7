package sftppool

import "testing"

func TestPoolMaxSizeDefault(t *testing.T) {
	c := Config{}
	if c.poolMaxSize() != 5 {
		t.Fatalf("poolMaxSize() = %d, want 5", c.poolMaxSize())
	}
}

func TestPoolMaxSizeOverride(t *testing.T) {
	c := Config{PoolMaxSize: 12}
	if c.poolMaxSize() != 12 {
		t.Fatalf("poolMaxSize() = %d, want 12", c.poolMaxSize())
	}
}
