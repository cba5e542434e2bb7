// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package main

import "github.com/haltpoint/knockd/cmd"

func main() {
	cmd.Execute()
}
