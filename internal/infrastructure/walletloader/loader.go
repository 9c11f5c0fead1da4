package walletloader

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"portfolio_tracker/internal/app/port"

	"github.com/ethereum/go-ethereum/common"
)

const defaultWalletFilePath = "data/wallets.txt"

// WalletFileLoader implements the port.WalletProvider interface by loading
// addresses from a newline-delimited file. Non-conforming lines are
// discarded silently apart from a debug-level note.
type WalletFileLoader struct {
	filePath   string
	loggerInfo func(msg string, args ...any)
}

// NewWalletFileLoader creates a new WalletFileLoader. An empty path selects
// the default location.
func NewWalletFileLoader(filePath string, loggerInfo func(msg string, args ...any)) port.WalletProvider {
	if filePath == "" {
		filePath = defaultWalletFilePath
	}
	return &WalletFileLoader{filePath: filePath, loggerInfo: loggerInfo}
}

// GetAddresses reads wallet addresses from the configured file path.
func (l *WalletFileLoader) GetAddresses() ([]string, error) {
	file, err := os.Open(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet file %s: %w", l.filePath, err)
	}
	defer file.Close()

	var addresses []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !common.IsHexAddress(line) {
			if l.loggerInfo != nil {
				l.loggerInfo("Skipping invalid wallet address format", "file", l.filePath, "line_number", lineNum, "address", line)
			}
			continue
		}
		addresses = append(addresses, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning wallet file %s: %w", l.filePath, err)
	}

	if l.loggerInfo != nil {
		l.loggerInfo("Wallets loaded successfully from file", "count", len(addresses), "path", l.filePath)
	}
	return addresses, nil
}
