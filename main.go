package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"chatserv/config"
	"chatserv/db"
	"chatserv/server"
)

const controlSocketPath = "/tmp/chatserv.sock"

func main() {
	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	srv := server.New(&server.Config{
		Addr:         cfg.Addr,
		QueueBacklog: cfg.QueueBacklog,
		MaxFrameSize: int32(cfg.MaxFrameSize),
	})

	recorder := db.NewRecorder(database)
	srv.AddPacketListener(recorder)
	srv.AddConnectionListener(recorder)

	// Start control socket for management commands
	go startControlSocket(srv)

	if cfg.WSAddr != "" {
		go startWebSocket(srv, cfg.WSAddr)
	}

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown("maintenance")
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

func startWebSocket(srv *server.Server, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	log.Printf("WebSocket transport listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("WebSocket transport failed: %v", err)
	}
}

func startControlSocket(srv *server.Server) {
	// Remove existing socket file
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Printf("Control socket listening on %s", controlSocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "rmgroup":
		if len(parts) < 2 {
			conn.Write([]byte("ERROR|Group id required\n"))
			return
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || id >= 0 {
			conn.Write([]byte("ERROR|Invalid group id\n"))
			return
		}
		if srv.Registry().RemoveGroup(int32(id)) {
			conn.Write([]byte("OK|Group removed\n"))
		} else {
			conn.Write([]byte("ERROR|Group not found\n"))
		}

	case "shutdown":
		reason := "maintenance"
		if len(parts) >= 2 && parts[1] != "" {
			reason = strings.TrimSpace(parts[1])
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Printf("Shutdown requested: reason=%s", reason)
		srv.Shutdown(reason)

		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
