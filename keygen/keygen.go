// Generates the process-wide HMAC signing key for the relay server.
//
// Run once at deployment time and provide the output to the server through
// the environment:
//
//	$ keygen
//	HMAC_KEY=h5ZIypA2mOQ7rbSmWf3Wy2Wv0FEGyNgF9up5aFZlvGk
//
// Every capability pair is signed with this key; rotating it invalidates all
// previously minted secrets.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relaypad/relaypad/server/auth"
)

func main() {
	bare := flag.Bool("bare", false, "Print the key material only, without the variable name.")
	flag.Parse()

	key, err := auth.NewSigningKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}

	if *bare {
		fmt.Println(key)
	} else {
		fmt.Printf("HMAC_KEY=%s\n", key)
	}
}
