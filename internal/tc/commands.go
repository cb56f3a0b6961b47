// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package tc

import "fmt"

// The qdisc tree below and the filter chain installed on it are the
// authoritative wire format; the tc command lines must produce exactly this
// kernel state:
//
//	root  1:0  dsmark indices 4 default_index 0
//	       └── 2:0  htb r2q 2
//	             ├── 2:1  htb rate 50000 ceil 50000   (interactive reserve)
//	             │     └── 3:0  sfq
//	             ├── 2:2  htb rate <stream_rate>      (protected stream)
//	             │     └── 4:0  sfq
//	             └── 2:3  htb rate <background_rate> ceil <background_rate>
//	                   └── 5:0  sfq
//
// A u32 filter chain on 1:0 stamps the dsmark index (1 = interactive,
// 2 = stream, 3 = background) and a tcindex filter on 2:0 dispatches the
// index to the matching class. dsmark and tcindex cannot be expressed with
// the netlink bindings, so these objects go through /sbin/tc.

// qEstimator is attached to every qdisc and class so the kernel maintains
// rate estimates alongside the byte counters.
const qEstimator = "estimator 250ms 500ms"

// interactiveRate is the bandwidth reserved for the interactive class
// (enough to keep an SSH session usable), in bytes/s.
const interactiveRate = 50000

// ingressSetupCommands installs an ingress qdisc on the hardware interface
// and a catch-all filter mirroring every incoming packet to the ifb device's
// egress path.
func ingressSetupCommands(dev, ifbDev string) []string {
	return []string{
		fmt.Sprintf("tc qdisc add dev %s %s handle ffff: ingress", dev, qEstimator),
		fmt.Sprintf("tc filter add dev %s parent ffff: protocol ip u32 match u32 0 0 action mirred egress redirect dev %s", dev, ifbDev),
	}
}

// ingressDeleteCommand removes the ingress qdisc from an interface.
func ingressDeleteCommand(dev string) string {
	return fmt.Sprintf("tc qdisc del dev %s ingress", dev)
}

// rootDeleteCommand removes the root qdisc from an interface.
func rootDeleteCommand(dev string) string {
	return fmt.Sprintf("tc qdisc del dev %s root", dev)
}

// installCommands builds the full topology install sequence for the given
// flow, seen from the remote sender's point of view.
func installCommands(ifbDev string, f Flow, streamRate, backgroundRate uint64) []string {
	ipSrcMask := uint32(0xffffffff)
	ipDstMask := uint32(0xffffffff)
	sportMask := uint16(0xffff)
	dportMask := uint16(0xffff)

	// zero means we don't filter on that
	if f.SrcIP == 0 {
		ipSrcMask = 0
	}
	if f.DstIP == 0 {
		ipDstMask = 0
	}
	if f.SrcPort == 0 {
		sportMask = 0
	}
	if f.DstPort == 0 {
		dportMask = 0
	}

	return []string{
		fmt.Sprintf("tc qdisc add dev %s %s handle 1:0 root dsmark indices 4 default_index 0", ifbDev, qEstimator),
		fmt.Sprintf("tc qdisc add dev %s %s handle 2:0 parent 1:0 htb r2q 2", ifbDev, qEstimator),
		fmt.Sprintf("tc class add dev %s %s parent 2:0 classid 2:1 htb rate %dbps ceil %dbps", ifbDev, qEstimator, interactiveRate, interactiveRate),
		fmt.Sprintf("tc qdisc add dev %s %s handle 3:0 parent 2:1 sfq", ifbDev, qEstimator),
		fmt.Sprintf("tc class add dev %s %s parent 2:0 classid 2:2 htb rate %dbps", ifbDev, qEstimator, streamRate),
		fmt.Sprintf("tc qdisc add dev %s %s handle 4:0 parent 2:2 sfq", ifbDev, qEstimator),
		fmt.Sprintf("tc class add dev %s %s parent 2:0 classid 2:3 htb rate %dbps ceil %dbps", ifbDev, qEstimator, backgroundRate, backgroundRate),
		fmt.Sprintf("tc qdisc add dev %s %s handle 5:0 parent 2:3 sfq", ifbDev, qEstimator),

		// tcindex dispatch on the htb qdisc: index 1/2/3 -> class 2:1/2:2/2:3
		fmt.Sprintf("tc filter add dev %s parent 2:0 protocol all prio 1 tcindex mask 0x3 shift 0", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 2:0 protocol all prio 1 handle 3 tcindex classid 2:3", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 2:0 protocol all prio 1 handle 2 tcindex classid 2:2", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 2:0 protocol all prio 1 handle 1 tcindex classid 2:1", ifbDev),

		// u32 chain on the dsmark qdisc. First hash table: TCP packets to
		// port 22 are stamped interactive.
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 handle 1:0:0 u32 divisor 1", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 u32 match u8 0x6 0xff at 9 offset at 0 mask 0f00 shift 6 eat link 1:0:0", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 handle 1:0:1 u32 ht 1:0:0 match u16 0x16 0xffff at 2 classid 1:1", ifbDev),

		// Second hash table: TCP packets matching the stream flow are
		// stamped stream. A masked-out field matches anything.
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 handle 2:0:0 u32 divisor 1", ifbDev),
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 u32 match u8 0x6 0xff at 9 match u32 0x%x 0x%x at 12 match u32 0x%x 0x%x at 16 offset at 0 mask 0f00 shift 6 eat link 2:0:0",
			ifbDev, f.SrcIP, ipSrcMask, f.DstIP, ipDstMask),
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 handle 2:0:1 u32 ht 2:0:0 match u16 0x%x 0x%x at 2 match u16 0x%x 0x%x at 0 classid 1:2",
			ifbDev, f.DstPort, dportMask, f.SrcPort, sportMask),

		// Everything else is background.
		fmt.Sprintf("tc filter add dev %s parent 1:0 protocol all prio 1 u32 match u32 0x0 0x0 at 0 classid 1:3", ifbDev),
	}
}

// changeStreamCommand adjusts the stream class rate in place.
func changeStreamCommand(ifbDev string, streamRate uint64) string {
	return fmt.Sprintf("tc class change dev %s parent 2:0 classid 2:2 htb rate %dbps", ifbDev, streamRate)
}

// changeBackgroundCommand adjusts the background class rate and ceiling in place.
func changeBackgroundCommand(ifbDev string, backgroundRate uint64) string {
	return fmt.Sprintf("tc class change dev %s parent 2:0 classid 2:3 htb rate %dbps ceil %dbps", ifbDev, backgroundRate, backgroundRate)
}
