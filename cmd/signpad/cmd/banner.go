package cmd

import (
	"fmt"
)

const banner = `
  ____  _             ____           _ 
 / ___|(_) __ _ _ __ |  _ \ __ _  __| |
 \___ \| |/ _` + "`" + ` | '_ \| |_) / _` + "`" + ` |/ _` + "`" + ` |
  ___) | | (_| | | | |  __/ (_| | (_| |
 |____/|_|\__, |_| |_|_|   \__,_|\__,_|
          |___/                        
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Signature Pad Service - Version %s\x1b[0m\n\n", Version)
}
