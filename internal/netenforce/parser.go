package netenforce

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ClassStats is one device's parsed `tc -s class show` snapshot.
type ClassStats struct {
	ClassID     int
	BytesSent   uint64
	PacketsSent uint64
	Dropped     uint64
	Overlimits  uint64
	CurrentRate string
	CurrentPPS  uint64
}

var (
	classHeaderRe = regexp.MustCompile(`^class\s+htb\s+1:([0-9a-fA-F]+)\b`)
	sentLineRe    = regexp.MustCompile(`Sent\s+(\d+)\s+bytes\s+(\d+)\s+pkt\s*\(dropped\s+(\d+),\s*overlimits\s+(\d+)`)
	rateLineRe    = regexp.MustCompile(`^\s*rate\s+(\S+)\s+(\d+)pps`)
)

// ParseClassStats parses the block-structured output of `tc -s class show`
// into per-classid stats, recognizing the class header, the "Sent ..."
// line, and the "rate..." line. It tolerates extra whitespace and
// unrelated interleaved lines (e.g. qdisc lines from a combined dump).
func ParseClassStats(output string) map[int]*ClassStats {
	result := map[int]*ClassStats{}
	var cur *ClassStats

	for _, line := range strings.Split(output, "\n") {
		if m := classHeaderRe.FindStringSubmatch(line); m != nil {
			cid, err := strconv.ParseInt(m[1], 16, 64)
			if err != nil {
				cur = nil
				continue
			}
			cur = &ClassStats{ClassID: int(cid)}
			result[int(cid)] = cur
			continue
		}
		if cur == nil {
			continue
		}
		if m := sentLineRe.FindStringSubmatch(line); m != nil {
			cur.BytesSent, _ = strconv.ParseUint(m[1], 10, 64)
			cur.PacketsSent, _ = strconv.ParseUint(m[2], 10, 64)
			cur.Dropped, _ = strconv.ParseUint(m[3], 10, 64)
			cur.Overlimits, _ = strconv.ParseUint(m[4], 10, 64)
			continue
		}
		if m := rateLineRe.FindStringSubmatch(line); m != nil {
			cur.CurrentRate = m[1]
			cur.CurrentPPS, _ = strconv.ParseUint(m[2], 10, 64)
			continue
		}
	}
	return result
}

// FilterHandleInfo is one u32 filter's kernel-reported handle and the
// class it targets, correlated with the device IP it matches.
type FilterHandleInfo struct {
	Handle  string
	ClassID int
}

var (
	filterFhFlowRe = regexp.MustCompile(`fh\s+([0-9a-fA-F]+::[0-9a-fA-F]+).*flowid\s+1:([0-9a-fA-F]+)`)
	matchHexRe     = regexp.MustCompile(`match\s+([0-9a-fA-F]{8})/ffffffff`)
)

// ParseFilterHandlesByIP parses `tc filter show` output into a map of
// device IP → FilterHandleInfo, by pairing each "fh <handle> ... flowid
// 1:<cid>" line with the "match <hex>/ffffffff" line that follows it. This
// is what lets ClearDevice delete a filter by its kernel handle instead of
// flushing and re-adding every other device's filter on the interface.
func ParseFilterHandlesByIP(output string) map[string]FilterHandleInfo {
	result := map[string]FilterHandleInfo{}
	var pendingHandle string
	var pendingClassID int

	for _, line := range strings.Split(output, "\n") {
		if m := filterFhFlowRe.FindStringSubmatch(line); m != nil {
			pendingHandle = m[1]
			cid, err := strconv.ParseInt(m[2], 16, 64)
			if err != nil {
				pendingHandle = ""
				continue
			}
			pendingClassID = int(cid)
			continue
		}
		if m := matchHexRe.FindStringSubmatch(line); m != nil && pendingHandle != "" {
			ip := hexToIP(m[1])
			if ip != "" {
				result[ip] = FilterHandleInfo{Handle: pendingHandle, ClassID: pendingClassID}
			}
			pendingHandle = ""
			continue
		}
	}
	return result
}

// ipToHex renders ip as the big-endian lowercase 8-hex form tc prints in
// u32 match keys.
func ipToHex(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ""
		}
		fmt.Fprintf(&b, "%02x", n)
	}
	return b.String()
}

func hexToIP(hex string) string {
	if len(hex) != 8 {
		return ""
	}
	var octets [4]int64
	for i := 0; i < 4; i++ {
		n, err := strconv.ParseInt(hex[i*2:i*2+2], 16, 64)
		if err != nil {
			return ""
		}
		octets[i] = n
	}
	return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3])
}

// filterExistsForIP reports whether filterShowOutput already lists a u32
// filter matching ip, recognizing either the dotted-quad or hex form, so a
// repeated apply can check before filter-add by scanning the current
// filter list instead of adding a duplicate.
func filterExistsForIP(filterShowOutput, ip string) bool {
	hex := ipToHex(ip)
	return strings.Contains(filterShowOutput, ip) || (hex != "" && strings.Contains(strings.ToLower(filterShowOutput), hex))
}
