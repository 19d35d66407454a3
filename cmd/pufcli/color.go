package main

import "github.com/fatih/color"

var (
	green = color.New(color.FgGreen, color.Bold).SprintFunc()
	red   = color.New(color.FgRed, color.Bold).SprintFunc()
)

func verdict(accepted bool) string {
	if accepted {
		return green("ACCEPTED")
	}
	return red("REJECTED")
}
