// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

//go:build linux
// +build linux

package tc

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type linuxOps struct{}

func newPlatformOps() netops { return linuxOps{} }

func linkInfo(l netlink.Link) LinkInfo {
	attrs := l.Attrs()
	return LinkInfo{
		Name:  attrs.Name,
		Index: attrs.Index,
		Ether: attrs.EncapType == "ether",
		Up:    attrs.RawFlags&unix.IFF_UP != 0,
	}
}

func (linuxOps) Links() ([]LinkInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	infos := make([]LinkInfo, 0, len(links))
	for _, l := range links {
		infos = append(infos, linkInfo(l))
	}
	return infos, nil
}

func (linuxOps) LinkByName(name string) (LinkInfo, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return LinkInfo{}, err
	}
	return linkInfo(l), nil
}

func (linuxOps) SetLinkUp(name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(l)
}

func (linuxOps) QdiscStats(name string) ([]QdiscInfo, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, err
	}
	qdiscs, err := netlink.QdiscList(l)
	if err != nil {
		return nil, err
	}

	infos := make([]QdiscInfo, 0, len(qdiscs))
	for _, q := range qdiscs {
		attrs := q.Attrs()
		info := QdiscInfo{
			Handle: attrs.Handle,
			Kind:   q.Type(),
		}
		if attrs.Statistics != nil && attrs.Statistics.Basic != nil {
			info.Bytes = attrs.Statistics.Basic.Bytes
		}
		infos = append(infos, info)
	}
	return infos, nil
}
