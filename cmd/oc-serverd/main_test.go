package main

import "testing"

func TestStringListAccumulates(t *testing.T) {
	var l stringList
	if err := l.Set("a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := l.Set("b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(l) != 2 || l[0] != "a" || l[1] != "b" {
		t.Fatalf("stringList = %v", l)
	}
}

func TestCountFlagIncrements(t *testing.T) {
	var c countFlag
	c.Set("")
	c.Set("")
	c.Set("")
	if int(c) != 3 {
		t.Fatalf("countFlag = %d, want 3", c)
	}
}
