// Command importctl previews and runs competency matrix imports from the
// command line and manages the competency catalog.
package main

func main() {
	Execute()
}
