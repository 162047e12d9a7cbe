package banner

import (
	"fmt"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the startup banner using the effective config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config sources: %s\n", src)
	if eff.Config != nil && eff.Config.Auth.Bypass {
		fmt.Println("Auth:     BYPASSED (local testing only)")
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("PUT  /v1/conversations/{cid}/messages/{mid} - Append a message (Version/Parents headers)")
	fmt.Println("GET  /v1/conversations/{cid}/messages?after=<lts>&limit=<n> - Read backlog")
	fmt.Println("GET  /v1/conversations/{cid}/subscribe?cursor=<lts> - Live SSE stream")
	fmt.Println("POST /v1/conversations - Create a conversation")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X PUT 'http://localhost%s/v1/conversations/c1/messages/m1' -d '{\"content\":\"hello\"}'\n", addr)
	fmt.Printf("curl -N 'http://localhost%s/v1/conversations/c1/subscribe?cursor=0'\n", addr)
	fmt.Println("\n== Production? =================================================")
	fmt.Println("Set a proper storage path (--db)")
	fmt.Println("Configure API keys and disable auth.bypass")
}
