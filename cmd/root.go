package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/merc2eqr/internal/convert"
	"github.com/kiesman99/merc2eqr/pkg/raster"
)

// Version is reported by the health endpoint and the default User-Agent
const Version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "merc2eqr [input]",
	Short: "Reproject Web Mercator world maps to equirectangular",
	Long: `merc2eqr resamples a full-world Web Mercator raster (such as a zoom 0
tile or a stitched slippy map) into the equirectangular projection.

The input can be a PNG, JPEG, GIF, BMP, TIFF or WebP file, "-" for standard
input, or an http(s) URL. The output is written as PNG or TIFF. Optionally, a
world file with EPSG:4326 georeferencing data can be written next to it.
Regions beyond the Mercator latitude limit of ±85.05112878° stay transparent.

Examples:
  # Convert a Mercator world map at its own width (height = width/2)
  merc2eqr world_mercator.png -o world.png

  # Explicit output size, TIFF output and world file
  merc2eqr world_mercator.png --width 4096 --height 2048 -f tiff -w -o world.tif

  # Convert the OpenStreetMap zoom 0 tile
  merc2eqr https://tile.openstreetmap.org/0/0/0.png -o osm.png

  # Start HTTP server
  merc2eqr serve --port 8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no input, show help
		if len(args) == 0 && viper.GetString("input") == "" {
			return cmd.Help()
		}
		return runConvert(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Interrupts cancel a running conversion.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.merc2eqr.yaml)")
	rootCmd.PersistentFlags().Int("workers", 0, "goroutines used for reprojection (default: number of CPUs)")
	rootCmd.PersistentFlags().String("user-agent", "merc2eqr/"+Version, "HTTP User-Agent header for source downloads")

	// Input options
	rootCmd.Flags().StringP("input", "i", "", "input image: file, - for stdin, or http(s) URL")
	rootCmd.Flags().StringToString("header", nil, "extra HTTP header for URL input, as key=value (repeatable)")
	rootCmd.Flags().Duration("fetch-timeout", 0, "timeout for downloading URL input (0 = none)")

	// Output options
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.Flags().StringP("format", "f", "png", "output format (png|tiff)")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file")
	rootCmd.Flags().Int("width", 0, "output width in pixels (default: input width)")
	rootCmd.Flags().Int("height", 0, "output height in pixels (default: width/2)")

	// Bind flags to viper
	viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindPFlag("user-agent", rootCmd.PersistentFlags().Lookup("user-agent"))
	viper.BindPFlag("input", rootCmd.Flags().Lookup("input"))
	viper.BindPFlag("header", rootCmd.Flags().Lookup("header"))
	viper.BindPFlag("fetch-timeout", rootCmd.Flags().Lookup("fetch-timeout"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("worldfile", rootCmd.Flags().Lookup("worldfile"))
	viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	viper.BindPFlag("height", rootCmd.Flags().Lookup("height"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".merc2eqr" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".merc2eqr")
	}

	// MERC2EQR_SERVER_PORT, MERC2EQR_USER_AGENT, ...
	viper.SetEnvPrefix("merc2eqr")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := viper.GetString("input")
	if len(args) == 1 {
		if input != "" {
			return fmt.Errorf("input given both as argument and --input")
		}
		input = args[0]
	}

	format, err := raster.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	width := viper.GetInt("width")
	height := viper.GetInt("height")
	if width < 0 || height < 0 {
		return fmt.Errorf("width/height less than 0: %d %d", width, height)
	}

	runner := convert.NewRunner(&convert.Options{
		Input:          input,
		Output:         viper.GetString("output"),
		Width:          width,
		Height:         height,
		Format:         format,
		WriteWorldFile: viper.GetBool("worldfile"),
		Workers:        viper.GetInt("workers"),
		UserAgent:      viper.GetString("user-agent"),
		Headers:        viper.GetStringMapString("header"),
		Timeout:        viper.GetDuration("fetch-timeout"),
	})

	return runner.Run(cmd.Context())
}
