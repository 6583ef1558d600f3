package commonconst

import "time"

const (
	//难度上下限
	MinDifficulty = 1
	MaxDifficulty = 10

	//金额精度，小数点后8位
	AmountPrecision = 8

	//address prefix byte
	AddressVersion = 0x00

	//nonce attempts between two cancellation checks
	MiningYieldInterval = 1024

	//stake selection precision factor
	StakePrecision = 1000000
)

//创世区块
const (
	GenesisAddress  = "genesis"
	GenesisSupply   = "1000000"
	GenesisData     = "Genesis block"
	GenesisPrevHash = "0"
)

var (
	Difficulty = 2
	//自动调整难度
	AutoAdjustDifficulty = false
	TargetBlockTime      = 10 * time.Second

	//reward minted to whoever mines pending settlements
	MiningReward = "10"
	//reward minted to the confirming recipient on accept-triggered settlement, zero disables it
	ConfirmReward = "0"
	DefaultFee    = "0.001"

	MinimumStake = "1000"

	//接收方确认窗口
	NotificationWindow = 24 * time.Hour
	SweepInterval      = time.Minute

	//closed notifications are dropped from memory after this
	NotificationRetention = 7 * 24 * time.Hour

	LRUCacheSize = 4096

	HttpAddr = ":8000"
)

//leveldb key prefix
const (
	BlockPrefix     = "b_"
	BalancePrefix   = "bal_"
	PublicKeyPrefix = "pk_"
	LatestIndexKey  = "latest_index"
)

//redis key
const (
	BalanceCacheKey = "balance_"
)
