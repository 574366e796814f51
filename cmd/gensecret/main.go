package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const SecretKeyBytesLen = 32

// Print fresh ACCESS_SECRET_KEY and REFRESH_SECRET_KEY lines ready for .env file
func main() {
	for _, name := range []string{"ACCESS_SECRET_KEY", "REFRESH_SECRET_KEY"} {
		b := make([]byte, SecretKeyBytesLen)

		_, err := rand.Read(b)
		if err != nil {
			fmt.Printf("error while generating secret key: %v", err)
			os.Exit(1)
		}

		fmt.Printf("%s=%s\n", name, hex.EncodeToString(b))
	}
}
