package netenforce

import "testing"

func TestParseClassStats(t *testing.T) {
	const output = `
class htb 1:1 root rate 100Mbit ceil 100Mbit
 Sent 500 bytes 5 pkt (dropped 0, overlimits 0 requeues 0)
 rate 0bit 0pps backlog 0b 0p requeues 0
class htb 1:a root leaf a: prio 4 rate 10Mbit ceil 10Mbit burst 1600b
 Sent 123456 bytes 789 pkt (dropped 3, overlimits 1 requeues 0)
 rate 512000bit 64pps backlog 0b 0p requeues 0
`
	stats := ParseClassStats(output)
	s, ok := stats[10]
	if !ok {
		t.Fatalf("expected classid 10 (hex a) present, got %v", stats)
	}
	if s.BytesSent != 123456 || s.PacketsSent != 789 || s.Dropped != 3 || s.Overlimits != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.CurrentRate != "512000bit" || s.CurrentPPS != 64 {
		t.Fatalf("unexpected rate line parse: %+v", s)
	}
}

func TestParseClassStats_ToleratesInterleavedLines(t *testing.T) {
	const output = `
qdisc htb 1: root refcnt 2 r2q 10 default 99 direct_packets_stat 0
class htb 1:a root leaf a: prio 4 rate 10Mbit ceil 10Mbit
 Sent 10 bytes 1 pkt (dropped 0, overlimits 0 requeues 0)
some unrelated line with no structure
 rate 0bit 0pps backlog 0b 0p requeues 0
`
	stats := ParseClassStats(output)
	if _, ok := stats[10]; !ok {
		t.Fatalf("expected classid 10 present despite interleaved lines, got %v", stats)
	}
}

func TestParseFilterHandlesByIP(t *testing.T) {
	const output = `
filter parent 1: protocol ip pref 1 u32
filter parent 1: protocol ip pref 1 u32 fh 800: ht divisor 1
filter parent 1: protocol ip pref 1 u32 fh 800::800 order 2048 key ht 800 bkt 0 flowid 1:a
  match c0a80165/ffffffff at 16
`
	byIP := ParseFilterHandlesByIP(output)
	info, ok := byIP["192.168.1.101"]
	if !ok {
		t.Fatalf("expected handle for 192.168.1.101, got %v", byIP)
	}
	if info.Handle != "800::800" || info.ClassID != 10 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestIPHexRoundTrip(t *testing.T) {
	ip := "192.168.1.101"
	hex := ipToHex(ip)
	if hex != "c0a80165" {
		t.Fatalf("ipToHex(%q) = %q, want c0a80165", ip, hex)
	}
	if back := hexToIP(hex); back != ip {
		t.Fatalf("hexToIP(%q) = %q, want %q", hex, back, ip)
	}
}

func TestFilterExistsForIP(t *testing.T) {
	dotted := "filter ... match ip dst 192.168.1.101/32 flowid 1:a"
	if !filterExistsForIP(dotted, "192.168.1.101") {
		t.Fatal("expected dotted-quad match")
	}
	hexForm := "filter ... match c0a80165/ffffffff at 16"
	if !filterExistsForIP(hexForm, "192.168.1.101") {
		t.Fatal("expected hex-form match")
	}
	if filterExistsForIP(hexForm, "10.0.0.1") {
		t.Fatal("expected no match for unrelated ip")
	}
}
