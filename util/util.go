package util

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/DataDog/zstd"
	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/meta"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

//使用速度最快的json工具
var FastestJson = jsoniter.ConfigCompatibleWithStandardLibrary

//transaction and block timestamps, microsecond ISO-8601
const TimeLayout = "2006-01-02T15:04:05.000000"

func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

//计算hash值
func CalHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

//index || timestamp || previous_hash || nonce || merkle_root
func CalBlockHash(block *meta.Block) string {
	record := strconv.FormatInt(block.Index, 10) + block.Timestamp + block.PreviousHash +
		strconv.FormatUint(block.Nonce, 10) + block.MerkleRoot
	return CalHash([]byte(record))
}

// DoubleHash is sha256(sha256(data)).
func DoubleHash(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

//判断文件或文件夹是否存在
func IsExist(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		log.Info(err)
		return false
	}
	return true
}

//压缩
func Compress(in []byte) ([]byte, error) {
	out, err := zstd.CompressLevel(nil, in, 5)
	if err != nil {
		return nil, errors.Wrap(err, "zstd compress")
	}
	log.Debugf("compress %d -> %d bytes", len(in), len(out))
	return out, nil
}

//解压
func DeCompress(in []byte) ([]byte, error) {
	out, err := zstd.Decompress(nil, in)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	return out, nil
}

// EncodeRecord serializes v with FastestJson and compresses it.
func EncodeRecord(v interface{}) ([]byte, error) {
	raw, err := FastestJson.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	return Compress(raw)
}

func DecodeRecord(in []byte, v interface{}) error {
	raw, err := DeCompress(in)
	if err != nil {
		return err
	}
	return errors.Wrap(FastestJson.Unmarshal(raw, v), "unmarshal record")
}
