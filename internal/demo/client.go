// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package demo

import (
	"github.com/godbus/dbus/v5"

	"github.com/alban/tcmmd/internal/bus"
	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
)

// Client is a thin proxy for the daemon's ManagedConnections object.
type Client struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *logging.Logger
}

// Connect dials the system bus and binds the daemon's object.
func Connect(logger *logging.Logger) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "cannot connect to system bus")
	}
	return &Client{
		conn:   conn,
		obj:    conn.Object(bus.WellKnownName, bus.Path),
		logger: logger.WithComponent("client"),
	}, nil
}

// SetPolicy reports the flow from the client's point of view.
func (c *Client) SetPolicy(srcIP string, srcPort uint16, destIP string, destPort uint16, bitrate uint32, bufferFill float64) error {
	call := c.obj.Call(bus.Interface+".SetPolicy", 0,
		srcIP, uint32(srcPort), destIP, uint32(destPort), bitrate, bufferFill)
	return call.Err
}

// UnsetPolicy clears the daemon's policy.
func (c *Client) UnsetPolicy() error {
	return c.obj.Call(bus.Interface+".UnsetPolicy", 0).Err
}

// Close drops the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
