// Command devicetoken mints a signed token for a scanner device or an
// organizer dashboard. The server has no login flow; tokens are issued
// out of band with this tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/event-checkin/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "device or operator id recorded on every scan")
	role := flag.String("role", utils.RoleScanner, "SCANNER or ORGANIZER")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; using process environment")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}
	r := strings.ToUpper(*role)
	if r != utils.RoleScanner && r != utils.RoleOrganizer {
		log.Fatalf("invalid role %q", *role)
	}

	tok, err := utils.NewDeviceToken(secret, *sub, r, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
