// Command eatisim runs the reconnaissance and fire strike simulation.
package main

import "github.com/eatisim/eatisim/cmd"

func main() {
	cmd.Execute()
}
