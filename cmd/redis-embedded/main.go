package main

import "github.com/jrepp/embedded-redis/cmd/redis-embedded/cmd"

func main() {
	cmd.Execute()
}
