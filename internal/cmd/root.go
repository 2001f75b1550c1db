package cmd

import (
	"github.com/spf13/cobra"

	"fotofast/internal/version"
)

// 全局标志
var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fotofast",
	Short: "FotoFast - 照片自动压缩工具",
	Long: `FotoFast ` + version.GetVersionWithPrefix() + `
检测新增或选中的照片，判定是否仍需有损重压缩，执行压缩，
并把一批工作的结果合并为单条报告。

示例：
  fotofast compress ~/Pictures
  fotofast compress --force --quality 70 ./photos
  fotofast watch ~/Pictures ~/DCIM`,
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"配置文件路径 (默认 $HOME/.fotofast.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"输出调试日志")
}
