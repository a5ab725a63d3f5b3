package main

import (
	"fmt"

	"github.com/freelancing-solutions/jobfinders-event-service/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
