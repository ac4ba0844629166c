// Command devtoken mints an access token for local testing against the api
// service. It signs with the same secret the api verifies with.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"chapterwise/internal/usertoken"
)

func main() {
	user := flag.String("user", "", "user id to put in the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	issuer := flag.String("issuer", "", "issuer (default chapterwise)")
	audience := flag.String("audience", "", "audience (default chapterwise-api)")
	flag.Parse()

	secret := os.Getenv("TOKEN_SECRET")
	if *user == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "usage: TOKEN_SECRET=... devtoken -user <id> [-ttl 24h]")
		os.Exit(2)
	}
	v, err := usertoken.NewVerifier(usertoken.Config{Secret: secret, Issuer: *issuer, Audience: *audience})
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	token, err := v.Issue(*user, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
