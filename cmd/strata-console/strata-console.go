package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"

	"github.com/alpenlabs/strata-sub002/node"
)

// Usage: go run strata-console.go -rpc=localhost:8432

func main() {
	rpcEndpoint := flag.String("rpc", "localhost:8432", "RPC server")
	flag.Parse()

	client, err := node.Dial(*rpcEndpoint)
	if err != nil {
		fmt.Println("❌ Failed to connect to RPC server:", err)
		return
	}
	defer client.Close()

	// readline gives arrow keys and command history
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: "/tmp/strata_console_history.txt",
	})
	if err != nil {
		fmt.Println("❌ Failed to start readline:", err)
		return
	}
	defer rl.Close()

	vm := goja.New()

	// rpc_call(method, param1, param2, ...) hits the node's "strata"
	// service; JSON responses come back as JS objects
	vm.Set("rpc_call", func(method string, args ...string) goja.Value {
		result, err := client.Call(method, args)
		if err != nil {
			return vm.ToValue("❌ RPC Call Failed: " + err.Error())
		}
		var jsonData interface{}
		if json.Unmarshal([]byte(result), &jsonData) == nil {
			return vm.ToValue(jsonData)
		}
		return vm.ToValue(result)
	})

	vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Println(arg.Export())
		}
	})

	// a JS Proxy binds strata.xxx() without listing every method
	_, err = vm.RunString(`
		var strata = new Proxy({}, {
			get: function(target, method) {
				return function(...args) {
					return rpc_call(method, ...args);
				};
			}
		});
	`)
	if err != nil {
		fmt.Println("❌ JavaScript Error:", err)
		return
	}

	startVal, err := vm.RunString(`strata.GetFunctions()`)
	if err != nil {
		fmt.Println("❌ Startup JS Error:", err)
	} else {
		fmt.Println("▶️ strata.GetFunctions() =>", startVal)
	}

	fmt.Println("✅ Strata Console Started (Readline Mode)")
	fmt.Println("Use JavaScript to call RPC methods, e.g. strata.GetClientState()")
	fmt.Println("Type 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			fmt.Println("🔴 Exiting Strata Console.")
			break
		}

		line = strings.TrimSpace(line)
		if line == "exit" {
			fmt.Println("🔴 Exiting Strata Console.")
			break
		}

		value, err := vm.RunString(line)
		if err != nil {
			fmt.Println("❌ JavaScript Error:", err)
		} else {
			fmt.Println("✅", value)
		}
	}
}
