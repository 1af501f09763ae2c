package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/OfficialDeepSwap/A2A/internal/api/middleware"
	"github.com/OfficialDeepSwap/A2A/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified")
		os.Exit(1)
	}

	// Decode private key
	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil || len(privKeyBytes) != ed25519.PrivateKeySize {
		fmt.Fprintln(os.Stderr, "Invalid private key: must be 64 bytes, base64-encoded")
		os.Exit(1)
	}
	privKey := ed25519.PrivateKey(privKeyBytes)
	pubKey := privKey.Public().(ed25519.PublicKey)

	// Read body
	var body []byte
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()
	signedData := crypto.SignaturePayload(middleware.BodyHash(body), nonce, timestamp)
	signature := ed25519.Sign(privKey, signedData)

	// Output headers
	fmt.Printf("%s: %s\n", middleware.HeaderKey, base64.StdEncoding.EncodeToString(pubKey))
	fmt.Printf("%s: %s\n", middleware.HeaderNonce, nonce)
	fmt.Printf("%s: %d\n", middleware.HeaderTimestamp, timestamp)
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, base64.StdEncoding.EncodeToString(signature))
}
