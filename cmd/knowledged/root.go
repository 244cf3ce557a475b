package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "knowledged"}

	root.AddCommand(serveCMD(), indexCMD(), migrateCMD(), createIndexCMD())
	_ = root.Execute()
}
