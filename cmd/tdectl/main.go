// Command tdectl is the operator CLI for the encryption core: rotating the
// master key, probing keyring liveness, and inspecting encryption info
// blobs. Flag/command shape follows getsops-sops/cmd/sops/main.go's
// urfave/cli app, colorized status output follows usererrors.go's
// statusSuccess/statusFailed pattern.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/tde-core/tdecore/config"
	"github.com/tde-core/tdecore/infocodec"
	"github.com/tde-core/tdecore/masterkey"
)

var statusSuccess = color.New(color.FgGreen).Sprint("SUCCESS")
var statusFailed = color.New(color.FgRed).Sprint("FAILED")

const (
	exitConfigError  = 10
	exitKeyringError = 11
	exitRotateError  = 12
	exitCodecError   = 13
	exitBadBlobArg   = 14
)

func loadManager(c *cli.Context) (*masterkey.Manager, *config.Config, error) {
	cfgPath := c.GlobalString("config")
	if cfgPath == "" {
		return nil, nil, cli.NewExitError("Error: --config is required", exitConfigError)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, cli.NewExitError(fmt.Sprintf("Error: %s", err), exitConfigError)
	}
	gw, err := config.NewGateway(cfg)
	if err != nil {
		return nil, nil, cli.NewExitError(fmt.Sprintf("Error: %s", err), exitConfigError)
	}
	return masterkey.NewManager(gw, cfg.ServerID), cfg, nil
}

func rotateMasterKey(c *cli.Context) error {
	mgr, cfg, err := loadManager(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	// Make sure a current master key exists before rotating: in a fresh
	// process GetOrCreateMasterKey creates master key 1 under a newly
	// generated uuid, and Rotate then moves one id past it.
	if _, _, err := mgr.GetOrCreateMasterKey(ctx); err != nil {
		fmt.Printf("%s: priming current master key: %s\n", statusFailed, err)
		return cli.NewExitError("", exitRotateError)
	}
	opts := masterkey.RotateOptions{AnyLegacyInfo: c.Bool("any-legacy-info")}
	id, err := mgr.Rotate(ctx, cfg.ServerUUID, opts)
	if err != nil {
		fmt.Printf("%s: %s\n", statusFailed, err)
		return cli.NewExitError("", exitRotateError)
	}
	fmt.Printf("%s: rotated to master key id %d\n", statusSuccess, id)
	return nil
}

func checkKeyring(c *cli.Context) error {
	mgr, _, err := loadManager(c)
	if err != nil {
		return err
	}
	if err := mgr.CheckAlive(context.Background()); err != nil {
		fmt.Printf("%s: %s\n", statusFailed, err)
		return cli.NewExitError("", exitKeyringError)
	}
	fmt.Printf("%s: keyring is alive\n", statusSuccess)
	return nil
}

func encodeInfo(c *cli.Context) error {
	mgr, cfg, err := loadManager(c)
	if err != nil {
		return err
	}
	codec, err := infocodec.NewCodec(cfg.ProductVersion, cfg.RefuseLegacyRead)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Error: %s", err), exitCodecError)
	}

	keyHex := c.String("key-hex")
	ivHex := c.String("iv-hex")
	if keyHex == "" || ivHex == "" {
		return cli.NewExitError("Error: --key-hex and --iv-hex are required", exitBadBlobArg)
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil || len(keyBytes) != infocodec.KeySize {
		return cli.NewExitError(fmt.Sprintf("Error: --key-hex must be %d raw bytes in hex", infocodec.KeySize), exitBadBlobArg)
	}
	ivBytes, err := hex.DecodeString(ivHex)
	if err != nil || len(ivBytes) != infocodec.IVSize {
		return cli.NewExitError(fmt.Sprintf("Error: --iv-hex must be %d raw bytes in hex", infocodec.IVSize), exitBadBlobArg)
	}
	var key [infocodec.KeySize]byte
	var iv [infocodec.IVSize]byte
	copy(key[:], keyBytes)
	copy(iv[:], ivBytes)

	blob, err := codec.Encode(context.Background(), mgr, key, iv, cfg.ServerUUID, c.Bool("bootstrap"), !c.Bool("unencrypted-key-region"))
	if err != nil {
		fmt.Printf("%s: %s\n", statusFailed, err)
		return cli.NewExitError("", exitCodecError)
	}
	fmt.Println(base64.StdEncoding.EncodeToString(blob))
	return nil
}

func decodeInfo(c *cli.Context) error {
	mgr, cfg, err := loadManager(c)
	if err != nil {
		return err
	}
	codec, err := infocodec.NewCodec(cfg.ProductVersion, cfg.RefuseLegacyRead)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Error: %s", err), exitCodecError)
	}

	blobB64 := c.String("blob-base64")
	if blobB64 == "" {
		return cli.NewExitError("Error: --blob-base64 is required", exitBadBlobArg)
	}
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Error: --blob-base64 is not valid base64: %s", err), exitBadBlobArg)
	}

	res, err := codec.Decode(context.Background(), mgr, blob, !c.Bool("unencrypted-key-region"), c.Bool("in-recovery"))
	if err != nil {
		fmt.Printf("%s: %s\n", statusFailed, err)
		return cli.NewExitError("", exitCodecError)
	}
	fmt.Printf("%s: format_version=%d legacy=%t key=%s iv=%s\n",
		statusSuccess, res.FormatVersion, res.Legacy, hex.EncodeToString(res.Key[:]), hex.EncodeToString(res.IV[:]))
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "tdectl"
	app.Usage = "operator CLI for the transparent data encryption core"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to the tdectl YAML configuration file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "rotate-master-key",
			Usage: "generate and advance to a new master key",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "any-legacy-info", Usage: "set if any open tablespace's info is still legacy V1 format (refuses rotation)"},
			},
			Action: rotateMasterKey,
		},
		{
			Name:   "check-keyring",
			Usage:  "probe the configured keyring backend for liveness",
			Action: checkKeyring,
		},
		{
			Name:  "encode-info",
			Usage: "build a V3 encryption info blob for a given tablespace key/iv",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key-hex", Usage: "32-byte tablespace key, hex encoded"},
				cli.StringFlag{Name: "iv-hex", Usage: "32-byte tablespace iv, hex encoded"},
				cli.BoolFlag{Name: "bootstrap", Usage: "wrap under the hardcoded default master key instead of the current one"},
				cli.BoolFlag{Name: "unencrypted-key-region", Usage: "leave the key region unencrypted, for clone/import (spec.md §4.4)"},
			},
			Action: encodeInfo,
		},
		{
			Name:  "decode-info",
			Usage: "parse a base64 encryption info blob and print its key/iv",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "blob-base64", Usage: "base64-encoded encryption info blob"},
				cli.BoolFlag{Name: "unencrypted-key-region", Usage: "the blob's key region is unencrypted (clone/import)"},
				cli.BoolFlag{Name: "in-recovery", Usage: "treat an unrecognized magic as a no-op instead of an error"},
			},
			Action: decodeInfo,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
