package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const pairJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const masterChefJSON = `[
	{"type":"function","name":"userInfo","stateMutability":"view","inputs":[{"name":"pid","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"rewardDebt","type":"uint256"}]},
	{"type":"function","name":"pendingShare","stateMutability":"view","inputs":[{"name":"pid","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"poolInfo","stateMutability":"view","inputs":[{"name":"pid","type":"uint256"}],"outputs":[{"name":"token","type":"address"},{"name":"allocPoint","type":"uint256"},{"name":"lastRewardTime","type":"uint256"},{"name":"accSharePerShare","type":"uint256"},{"name":"isStarted","type":"bool"}]},
	{"type":"function","name":"totalAllocPoint","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"sharePerSecond","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"pid","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"pid","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const boardroomJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"earned","stateMutability":"view","inputs":[{"name":"member","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"epoch","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"nextEpochPoint","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rewardLockupEpochs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"members","stateMutability":"view","inputs":[{"name":"member","type":"address"}],"outputs":[{"name":"lastSnapshotIndex","type":"uint256"},{"name":"rewardEarned","type":"uint256"},{"name":"epochTimerStart","type":"uint256"}]},
	{"type":"function","name":"latestSnapshotIndex","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"boardroomHistory","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"time","type":"uint256"},{"name":"rewardReceived","type":"uint256"},{"name":"rewardPerShare","type":"uint256"}]},
	{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const zapperJSON = `[
	{"type":"function","name":"zapIn","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]}
]`

var (
	erc20ABI      = mustParseABI(erc20JSON)
	pairABI       = mustParseABI(pairJSON)
	masterChefABI = mustParseABI(masterChefJSON)
	boardroomABI  = mustParseABI(boardroomJSON)
	zapperABI     = mustParseABI(zapperJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid contract abi: " + err.Error())
	}
	return parsed
}
