// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/registry"
	"github.com/globe-monitor/globe/lib/source"
)

const (
	columnWidthChannel  = 16
	columnWidthEndpoint = 24
	columnWidthState    = 14
)

var (
	headerStyle       = lipgloss.NewStyle().Bold(true)
	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	connectingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle          = lipgloss.NewStyle().Faint(true)
)

// renderSummary lists each channel with its state and source counts,
// followed by its registered sources and, dimmed, the deregistered
// ones.
func renderSummary(channels []channel.Channel, sources *registry.SourceRegistry) string {
	if len(channels) == 0 {
		return dimStyle.Render("no channels")
	}
	var builder strings.Builder
	builder.WriteString(headerStyle.Render(
		pad("CHANNEL", columnWidthChannel) + pad("ENDPOINT", columnWidthEndpoint) + pad("STATE", columnWidthState) + "SOURCES"))
	for _, each := range channels {
		registered, deregistered := sources.Counts(each.Name())
		builder.WriteString("\n")
		builder.WriteString(pad(each.Name(), columnWidthChannel))
		builder.WriteString(pad(fmt.Sprintf("%s:%d", each.HostAddress(), each.PortNumber()), columnWidthEndpoint))
		builder.WriteString(stateStyle(each.State()).Width(columnWidthState).Render(each.State().String()))
		builder.WriteString(fmt.Sprintf("%d registered, %d deregistered", registered, deregistered))

		for _, current := range sources.RegisteredSources(each.Name()) {
			builder.WriteString("\n  " + sourceLine(current))
		}
		for _, gone := range sources.DeregisteredSources(each.Name()) {
			builder.WriteString("\n  " + dimStyle.Render(sourceLine(gone)+" (deregistered)"))
		}
	}
	return builder.String()
}

func sourceLine(current source.Source) string {
	line := fmt.Sprintf("%s = %s", current.Key(), source.FormatValue(current.Value))
	if current.Type.Valid() {
		line += " [" + current.Type.String() + "]"
	}
	return line
}

func stateStyle(state channel.State) lipgloss.Style {
	switch state {
	case channel.StateConnected:
		return connectedStyle
	case channel.StateConnecting:
		return connectingStyle
	}
	return disconnectedStyle
}

func pad(text string, width int) string {
	if len(text) >= width {
		return text + " "
	}
	return text + strings.Repeat(" ", width-len(text))
}
