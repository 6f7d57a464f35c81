// Command verify checks a revealed round offline. It needs nothing but
// the four values every crashed round publishes, so anyone can audit a
// round without access to the live service.
package main

import (
	"flag"
	"fmt"
	"os"

	"crashx/internal/fair"
)

func main() {
	serverSeed := flag.String("server-seed", "", "revealed server seed")
	serverSeedHash := flag.String("server-seed-hash", "", "published commitment")
	clientSeed := flag.String("client-seed", "", "round client seed")
	sequence := flag.Int64("sequence", 0, "round sequence number")
	crashPoint := flag.Float64("crash-point", 0, "claimed crash point")
	flag.Parse()

	if *serverSeed == "" || *serverSeedHash == "" {
		fmt.Fprintln(os.Stderr, "server-seed and server-seed-hash are required")
		flag.Usage()
		os.Exit(2)
	}

	result := fair.Verify(*serverSeed, *serverSeedHash, *clientSeed, *sequence, *crashPoint)

	fmt.Printf("hash match:   %v\n", result.HashMatch)
	fmt.Printf("value match:  %v (expected %.2fx, claimed %.2fx)\n",
		result.ValueMatch, result.Expected, *crashPoint)

	if result.Valid() {
		fmt.Println("round is FAIR")
		return
	}
	fmt.Println("round FAILED verification")
	os.Exit(1)
}
