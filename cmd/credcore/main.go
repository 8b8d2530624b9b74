// credcore is the BLE credential-presentation client. It drives a
// presentation engine and an optional region trigger engine against a GATT
// reader, either for real (future transport backends) or against a scripted
// scenario via `credcore simulate`.
package main

import (
	"github.com/fieldgate/credcore/cmd/credcore/commands"
)

func main() {
	commands.Execute()
}
