package main

import (
	"github.com/lunixbochs/ntcorn/go/cmd"
)

func main() { cmd.Main() }
