package main

import (
	"log/slog"
	"net"
)

func CloseOrLog(conn net.Conn) {
	if err := conn.Close(); err != nil {
		slog.Error("error closing connection", "err", err, "local_addr", conn.LocalAddr())
	}
}

func LogWriteError(err error) {
	if err != nil {
		slog.Error("write error", "err", err)
	}
}
