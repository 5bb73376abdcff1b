// Command pyhost runs Python code inside a Go process.
//
// Usage:
//
//	pyhost script.py
//	pyhost run -c 'print(1 + 1)'
//	echo 'print(1 + 1)' | pyhost run
//	pyhost repl
//	pyhost fetch https://example.com/rustpython.wasm
package main

func main() {
	Execute()
}
