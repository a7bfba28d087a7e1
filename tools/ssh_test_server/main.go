// Command ssh_test_server runs the device emulator on a fixed local port for
// manual runs of rosac, e.g.
//
//	rosac run -t 127.0.0.1:20222 -u ir --password ir --host-key "<printed key>" -c catalog.yaml
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	srv "github.com/Linkavych/rOSac/tools/sshserv"
)

const listenAddr = "127.0.0.1:20222"

func main() {
	s, err := srv.Start(listenAddr, srv.Config{
		Password: "ir",
		Responses: map[string]srv.Response{
			"/system identity print":    {Stdout: "  name: lab-router\r\n"},
			"/system resource print":    {Stdout: "  uptime: 3d4h12m\r\n  version: 7.14.2 (stable)\r\n  board-name: hEX\r\n"},
			"/system clock print":       {Stdout: "  time: 10:41:07\r\n  date: 2024-05-02\r\n  time-zone-name: UTC\r\n"},
			"/user print detail":        {Stdout: " 0   ;;; system default user\r\n     name=\"admin\" group=full address=\"\"\r\n"},
			"/ip address print":         {Stdout: " #   ADDRESS            NETWORK         INTERFACE\r\n 0   192.168.88.1/24    192.168.88.0    bridge\r\n"},
			"/ip route print":           {Stdout: " 0 ADS  0.0.0.0/0   192.0.2.1   1\r\n"},
			"/ip firewall filter print": {Stdout: " 0    chain=input action=accept connection-state=established,related\r\n"},
			"/log print":                {Stdout: "10:40:55 system,info,account user ir logged in from 127.0.0.1 via ssh\r\n"},
			"/export":                   {Stdout: "# 2024-05-02 10:41:07 by RouterOS 7.14.2\r\n/system identity\r\nset name=lab-router\r\n"},
		},
		Files: map[string][]byte{
			"lab-router.rsc": []byte("# exported configuration\r\n/system identity\r\nset name=lab-router\r\n"),
		},
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "failed to start test ssh server:", err)
		os.Exit(1)
	}
	defer func() { _ = s.Close() }()
	_, _ = fmt.Fprintln(os.Stderr, "test ssh server listening on", s.Addr())
	_, _ = fmt.Fprintln(os.Stderr, "host key:", s.AuthorizedHostKey())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
