package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/jackpal/gateway"
)

const (
	// DefaultGroup is the administratively scoped group trucks send heartbeats to.
	DefaultGroup = "239.255.42.99:5007"

	readBufferSize = 1 << 20

	// autoIface selects the interface that carries the default route.
	autoIface = "auto"
)

// listenGroup joins the multicast group on iface, or on the system's choice of interface if iface is empty.
func listenGroup(group, iface string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("invalid group %q: %w", group, err)
	}
	ifi, err := lookupInterface(iface)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenMulticastUDP("udp4", ifi, addr)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", addr, err)
	}
	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		slog.Warn("could not set read buffer", "err", err)
	}
	slog.Info("joined multicast group", "group", addr, "iface", iface)
	return conn, nil
}

// dialGroup returns a connection whose writes go to the multicast group.
func dialGroup(group string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("invalid group %q: %w", group, err)
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not a multicast address", errUsage, addr.IP)
	}
	return net.DialUDP("udp4", nil, addr)
}

// lookupInterface returns the named interface, the default-route interface for "auto", or nil for "".
func lookupInterface(name string) (*net.Interface, error) {
	switch name {
	case "":
		return nil, nil
	case autoIface:
		ip, err := gateway.DiscoverInterface()
		if err != nil {
			return nil, fmt.Errorf("discover default interface: %w", err)
		}
		return interfaceWithIP(ip)
	default:
		return net.InterfaceByName(name)
	}
}

func interfaceWithIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifi, nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", ip)
}
