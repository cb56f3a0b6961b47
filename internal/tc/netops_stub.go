// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

//go:build !linux
// +build !linux

package tc

import (
	"github.com/alban/tcmmd/internal/errors"
)

type stubOps struct{}

func newPlatformOps() netops { return stubOps{} }

func errUnsupported() error {
	return errors.New(errors.KindUnavailable, "traffic control requires Linux")
}

func (stubOps) Links() ([]LinkInfo, error) { return nil, errUnsupported() }

func (stubOps) LinkByName(string) (LinkInfo, error) { return LinkInfo{}, errUnsupported() }

func (stubOps) SetLinkUp(string) error { return errUnsupported() }

func (stubOps) QdiscStats(string) ([]QdiscInfo, error) { return nil, errUnsupported() }
