package main

import (
	"fmt"

	"github.com/openacad/activity-service/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
