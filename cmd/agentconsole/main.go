// Command agentconsole runs the agent admin console.
//
//	agentconsole -f console.yaml serve --addr :8080
//	agentconsole -f console.yaml invoke --agent helper "what time is it?"
//	agentconsole -f console.yaml threads --agent helper
package main

import "os"

func main() {
	Run(os.Args[1:])
}
