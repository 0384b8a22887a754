// Command tokenctl is a thin CLI front end over pkg/token, following
// minter/main.go's flag-then-validate-then-dispatch shape: parse global
// flags, configure slog, load the slot descriptor config, then dispatch
// to one of a small set of subcommands.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/barnettlynn/cryptotoken/cmd/tokenctl/internal/config"
	"github.com/barnettlynn/cryptotoken/pkg/token"
	"github.com/barnettlynn/cryptotoken/pkg/token/transport"
)

const configFileName = "tokenctl.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to slot descriptor config (default: alongside the binary)")
	slotID := flag.Int("slot", 0, "slot id to operate on")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("usage: tokenctl [-slot N] <list-slots|init-token|token-info|login|logout>")
	}
	cmd := args[0]

	resolvedConfig := *configPath
	if resolvedConfig == "" {
		var err error
		resolvedConfig, err = defaultConfigPath()
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
	}

	cfg, err := config.Load(resolvedConfig)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	lib, err := token.Initialize(token.InitArgs{
		SlotPoolSize:   cfg.Library.SlotPoolSize,
		ObjectCacheCap: cfg.Library.ObjectCacheCap,
		MultiThreaded:  true,
	})
	if err != nil {
		log.Fatalf("token.Initialize: %v", err)
	}
	defer lib.Finalize()

	switch cmd {
	case "list-slots":
		runListSlots(lib)
	case "init-token":
		runInitToken(lib, cfg, *slotID)
	case "token-info":
		runTokenInfo(lib, *slotID)
	case "login":
		runLogin(lib, *slotID)
	case "logout":
		runLogout(lib, *slotID)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), configFileName), nil
}

func runListSlots(lib *token.LibraryContext) {
	ids, err := lib.GetSlotList(false)
	if err != nil {
		log.Fatalf("GetSlotList: %v", err)
	}
	for _, id := range ids {
		fmt.Printf("slot %d\n", id)
	}
}

func runInitToken(lib *token.LibraryContext, cfg *config.Config, slotID int) {
	slotCfg := findSlotConfig(cfg, slotID)
	if slotCfg == nil {
		log.Fatalf("no config entry for slot %d", slotID)
	}

	desc := token.SlotDescriptor{
		DeviceType:    deviceTypeFromName(slotCfg.DeviceTypeName()),
		Transport:     transportConfigFromSlot(*slotCfg),
		Label:         slotCfg.Label,
		FreeSlots:     slotCfg.FreeSlots,
		UserPINHandle: slotCfg.UserPINHandle,
		SOPINHandle:   slotCfg.SOPINHandle,
	}

	dial := func(tc token.TransportConfig) (transport.Device, error) {
		switch tc.Kind {
		case token.InterfaceHID:
			return transport.OpenPCSCDevice(tc.ID)
		default:
			return nil, fmt.Errorf("tokenctl: transport kind %v has no non-PCSC driver wired in this binary (%w)", tc.Kind, errNoDriver)
		}
	}

	if err := lib.InitToken(slotID, desc, dial); err != nil {
		log.Fatalf("InitToken: %v", err)
	}
	fmt.Printf("slot %d initialized\n", slotID)
}

var errNoDriver = fmt.Errorf("wire-level transport driver out of scope")

func runTokenInfo(lib *token.LibraryContext, slotID int) {
	info, err := lib.GetTokenInfo(slotID)
	if err != nil {
		log.Fatalf("GetTokenInfo: %v", err)
	}
	fmt.Printf("label:  %s\n", strings.TrimRight(string(info.Label[:]), " "))
	fmt.Printf("model:  %s\n", strings.TrimRight(string(info.Model[:]), " "))
	fmt.Printf("serial: %s\n", strings.TrimRight(string(info.SerialNumber[:]), " "))
	fmt.Printf("free grid slots: %d\n", info.FreeGridSlots)
	fmt.Printf("logged in: %v\n", info.LoggedIn)
}

func runLogin(lib *token.LibraryContext, slotID int) {
	pin, err := promptPIN("PIN")
	if err != nil {
		log.Fatalf("read PIN: %v", err)
	}
	handle, err := lib.OpenSession(slotID, true)
	if err != nil {
		log.Fatalf("OpenSession: %v", err)
	}
	if err := lib.Login(handle, token.UserNormal, pin, 32, nil); err != nil {
		log.Fatalf("Login: %v", err)
	}
	fmt.Println("login ok")
}

func runLogout(lib *token.LibraryContext, slotID int) {
	if err := lib.CloseAllSessions(slotID); err != nil {
		log.Fatalf("CloseAllSessions: %v", err)
	}
	fmt.Println("logout ok")
}

func findSlotConfig(cfg *config.Config, id int) *config.SlotConfig {
	for i := range cfg.Slots {
		if cfg.Slots[i].ID == id {
			return &cfg.Slots[i]
		}
	}
	return nil
}

func deviceTypeFromName(name string) token.DeviceType {
	switch name {
	case "ATECC508A":
		return token.DeviceATECC508A
	case "ATECC608":
		return token.DeviceATECC608
	case "TA100":
		return token.DeviceTA100
	case "TA101":
		return token.DeviceTA101
	default:
		return token.DeviceUnspecified
	}
}

func transportConfigFromSlot(s config.SlotConfig) token.TransportConfig {
	args := s.InterfaceArgs()
	switch s.InterfaceKindName() {
	case "hid":
		id := ""
		if len(args) > 1 {
			id = strings.TrimSpace(args[1])
		}
		return token.TransportConfig{Kind: token.InterfaceHID, ID: id}
	case "i2c":
		addr, bus, baud := 0, 0, 0
		if len(args) > 0 {
			addr, _ = config.ParseHexOrDecimal(args[0])
		}
		if len(args) > 1 {
			bus, _ = config.ParseHexOrDecimal(args[1])
		}
		if len(args) > 2 {
			baud, _ = config.ParseHexOrDecimal(args[2])
		}
		return token.TransportConfig{Kind: token.InterfaceI2C, Addr: addr, Bus: bus, Baud: baud}
	case "spi":
		bus, cs, baud := 0, 0, 0
		if len(args) > 0 {
			bus, _ = config.ParseHexOrDecimal(args[0])
		}
		if len(args) > 1 {
			cs, _ = config.ParseHexOrDecimal(args[1])
		}
		if len(args) > 2 {
			baud, _ = config.ParseHexOrDecimal(args[2])
		}
		return token.TransportConfig{Kind: token.InterfaceSPI, Bus: bus, CS: cs, Baud: baud}
	default:
		return token.TransportConfig{}
	}
}
