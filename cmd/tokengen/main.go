// Command tokengen issues an access token for a user id, signed with the
// gateway's secret. Accounts are managed outside GarageKeeper; this is how
// an operator hands a client its token.
//
//	tokengen -u 7d0c… [-s secret] [-t minutes]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/garagekeeper/internal/flagx"
	"github.com/dmitrijs2005/garagekeeper/internal/server/auth"
	"github.com/dmitrijs2005/garagekeeper/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("tokengen", flag.ExitOnError)
	userID := fs.String("u", "", "user id the token is issued for")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-u"}))

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -u <user id> [-s secret] [-t minutes]")
		os.Exit(2)
	}

	tok, err := auth.GenerateToken(*userID, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
